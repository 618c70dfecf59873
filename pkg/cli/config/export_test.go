package config

// NewGeminiForTest creates a Gemini config for testing purposes
func NewGeminiForTest(projectID, location string) *Gemini {
	return &Gemini{
		projectID: projectID,
		location:  location,
	}
}

func NewIngestForTest(path string) *Ingest {
	return &Ingest{path: path}
}

func NewRenderForTest(endpoint string) *Render {
	return &Render{endpoint: endpoint}
}

func NewRepositoryForTest(backend, projectID string) *Repository {
	return &Repository{backend: backend, projectID: projectID}
}
