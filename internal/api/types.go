package api

import (
	"time"

	"github.com/roach88/motionguard/internal/store"
	"github.com/roach88/motionguard/internal/task"
)

type StartResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type StatusResponse struct {
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
	Result  string      `json:"result,omitempty"`
}

type ResultResponse struct {
	Status          task.Status `json:"status"`
	Message         string      `json:"message"`
	DetectionResult string      `json:"detection_result"`
}

type LogsResponse struct {
	Logs []string `json:"logs"`
}

type TasksResponse struct {
	Tasks []task.Task `json:"tasks"`
}

// Detection is one log record as served over HTTP.
type Detection struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	ImagePath string `json:"image_path"`
}

type DetectionsResponse struct {
	Source     string      `json:"source"`
	Detections []Detection `json:"detections"`
}

type CaptureResponse struct {
	ImagePath  string    `json:"image_path"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

func toDetection(r store.Record) Detection {
	return Detection{
		Timestamp: r.Timestamp.Format(store.TimeLayout),
		Status:    string(r.Status),
		ImagePath: r.Artifact,
	}
}

func toDetections(records []store.Record) []Detection {
	out := make([]Detection, 0, len(records))
	for _, r := range records {
		out = append(out, toDetection(r))
	}
	return out
}
