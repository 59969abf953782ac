package space

// Info describes the Genie space the application answers against.
type Info struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	WarehouseID     string   `json:"warehouseId,omitempty"`
	SampleQuestions []string `json:"sampleQuestions"`
}
