package ingest

import (
	"encoding/json"
	"errors"
	"time"
)

type Phase string

const (
	PhaseProfiles  Phase = "profiles"
	PhaseGroups    Phase = "groups"
	PhaseZones     Phase = "zones"
	PhaseUsers     Phase = "users"
	PhaseNAS       Phase = "nas"
	PhaseCompleted Phase = "completed"
)

// Phases is the order a run walks the remote API in. Profiles and groups
// come first so users can reference them.
var Phases = []Phase{PhaseProfiles, PhaseGroups, PhaseZones, PhaseUsers, PhaseNAS}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusRunning
}

var (
	ErrRunInProgress = errors.New("a sync run is already in progress")
	ErrRunNotFound   = errors.New("sync run not found")
	ErrNotRunning    = errors.New("sync run is not running")
)

type PhaseProgress struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	New         int `json:"new"`
	Updated     int `json:"updated"`
	Failed      int `json:"failed"`
}

// Progress is the persisted state of one run. Percentage never decreases.
type Progress struct {
	ID           string                   `json:"id"`
	Phase        Phase                    `json:"phase"`
	Status       Status                   `json:"status"`
	Phases       map[Phase]*PhaseProgress `json:"phases"`
	NewCount     int                      `json:"new_count"`
	UpdatedCount int                      `json:"updated_count"`
	FailedCount  int                      `json:"failed_count"`
	Percentage   float64                  `json:"percentage"`
	Error        string                   `json:"error,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
	FinishedAt   *time.Time               `json:"finished_at,omitempty"`
}

func (p *Progress) clone() *Progress {
	c := *p
	c.Phases = make(map[Phase]*PhaseProgress, len(p.Phases))
	for k, v := range p.Phases {
		pp := *v
		c.Phases[k] = &pp
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Page is one page of the remote sync API.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// Remote record shapes. The remote id becomes the local external id.

type remoteProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Download string `json:"download"`
	Upload   string `json:"upload"`
}

type remoteNamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type remoteUser struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	ProfileID  string     `json:"profile_id"`
	GroupID    string     `json:"group_id"`
	ZoneID     string     `json:"zone_id"`
	Expiration *time.Time `json:"expiration"`
	Enabled    bool       `json:"enabled"`
}

type remoteNAS struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	Type      string `json:"type"`
}

const (
	EventTypeProgress = "sync.progress"
	TopicSyncProgress = "sync.progress"
)

type ProgressResponse struct {
	Progress *Progress `json:"progress"`
}
