package model

import "time"

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

type ProjectImage struct {
	URL        string    `json:"url"`
	Caption    string    `json:"caption,omitempty"`
	UploadDate time.Time `json:"upload_date"`
}

type Project struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	OrganizationID   string         `json:"organization_id"` // wallet address
	OrganizationName string         `json:"organization_name"`
	Location         string         `json:"location"`
	TargetAmount     Money          `json:"target_amount"` // sum of milestone original targets, fixed at creation
	Milestones       []Milestone    `json:"milestones"`
	Images           []ProjectImage `json:"images,omitempty"`
	Status           ProjectStatus  `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	// ChainProjectID is the numeric project id assigned by the chain module, when known.
	ChainProjectID string    `json:"chain_project_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CurrentMilestone returns the first milestone that has not been completed yet.
func (p *Project) CurrentMilestone() *Milestone {
	for i := range p.Milestones {
		if !p.Milestones[i].IsCompleted {
			return &p.Milestones[i]
		}
	}
	return nil
}

// Milestone looks up a milestone by id.
func (p *Project) Milestone(id string) *Milestone {
	for i := range p.Milestones {
		if p.Milestones[i].ID == id {
			return &p.Milestones[i]
		}
	}
	return nil
}

// AllCompletedAndReleased reports whether every milestone is both completed and funded.
func (p *Project) AllCompletedAndReleased() bool {
	for _, m := range p.Milestones {
		if !m.IsCompleted || !m.EscrowReleased {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	out := p
	out.Images = cloneImages(p.Images)
	if p.Milestones != nil {
		out.Milestones = make([]Milestone, len(p.Milestones))
		for i, m := range p.Milestones {
			out.Milestones[i] = m.Clone()
		}
	}
	return out
}

func cloneImages(in []ProjectImage) []ProjectImage {
	if in == nil {
		return nil
	}
	out := make([]ProjectImage, len(in))
	copy(out, in)
	return out
}
