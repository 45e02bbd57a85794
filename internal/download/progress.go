package download

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions happen without an explicit restart.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is a snapshot of a task's byte counters and state.
// Speed is in bytes per second and ETA in seconds.
type Progress struct {
	Downloaded int64  `json:"downloaded"`
	Total      int64  `json:"total"`
	Speed      int64  `json:"speed"`
	ETA        int64  `json:"eta"`
	Status     Status `json:"status"`
}

func NewProgress(total int64) Progress {
	return Progress{Total: total, Status: StatusPending}
}

// Update sets downloaded and recomputes speed and eta from the time elapsed since start.
// Downloaded is clamped to total once total is known.
func (p *Progress) Update(downloaded int64, elapsed time.Duration) {
	if downloaded < 0 {
		downloaded = 0
	}
	if p.Total > 0 && downloaded > p.Total {
		downloaded = p.Total
	}
	p.Downloaded = downloaded
	if secs := elapsed.Seconds(); secs > 0 {
		p.Speed = int64(float64(downloaded) / secs)
	}
	if p.Speed > 0 && p.Downloaded < p.Total {
		p.ETA = (p.Total - p.Downloaded) / p.Speed
	} else {
		p.ETA = 0
	}
}

func (p Progress) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Downloaded) / float64(p.Total) * 100
	return min(max(pct, 0), 100)
}
