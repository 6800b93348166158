package entity

// Source identifies which generator produced a description.
type Source string

const (
	SourceMock Source = "mock"
	SourceAPI  Source = "api"
)

// AnalyzeRequest asks for a description of one image resource.
type AnalyzeRequest struct {
	ImageURL string `json:"imageUrl"`
	PageURL  string `json:"pageUrl"`
}

// AnalyzeResult is the accepted description for an image.
type AnalyzeResult struct {
	AltText   string `json:"altText"`
	Source    Source `json:"source"`
	LatencyMs int64  `json:"latencyMs"`
}
