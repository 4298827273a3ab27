package roboflow

// Project is the Roboflow project metadata response
type Project struct {
	Project  *ProjectInfo `json:"project,omitempty"`
	Versions []Version    `json:"versions"`
}

// ProjectInfo describes a single dataset project
type ProjectInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Created string   `json:"created,omitempty"`
	Updated string   `json:"updated,omitempty"`
	Images  int      `json:"images"`
	Classes []string `json:"classes,omitempty"`
}

// Version describes one dataset version
type Version struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Version int     `json:"version"`
	Images  int     `json:"images"`
	Splits  *Splits `json:"splits,omitempty"`
}

// Splits holds the train/valid/test image counts of a version
type Splits struct {
	Train int `json:"train"`
	Valid int `json:"valid"`
	Test  int `json:"test"`
}

// download is the version export response; only the link matters
type download struct {
	Export *struct {
		Link string `json:"link"`
	} `json:"export,omitempty"`
}

// InferenceResult is the hosted inference response
type InferenceResult struct {
	Predictions []Prediction `json:"predictions"`
	Image       *ImageInfo   `json:"image,omitempty"`
}

// Prediction is a single detected object with its bounding box
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// ImageInfo holds the dimensions of the inferred image
type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
