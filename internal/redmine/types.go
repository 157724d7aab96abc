// ABOUTME: Redmine REST resource types used by the bridge
// ABOUTME: Only the fields the chat flows and notifications read are modelled

package redmine

// Ref is Redmine's {"id": n, "name": "..."} reference shape.
type Ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Journal is one history entry of an issue.
type Journal struct {
	ID        int64  `json:"id"`
	User      Ref    `json:"user"`
	Notes     string `json:"notes"`
	CreatedOn string `json:"created_on"`
}

// Issue is a Redmine issue as returned by /issues.json and /issues/{id}.json.
type Issue struct {
	ID          int64     `json:"id"`
	Project     Ref       `json:"project"`
	Tracker     Ref       `json:"tracker"`
	Status      Ref       `json:"status"`
	Priority    Ref       `json:"priority"`
	Author      Ref       `json:"author"`
	AssignedTo  *Ref      `json:"assigned_to,omitempty"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	StartDate   string    `json:"start_date"`
	DueDate     string    `json:"due_date"`
	DoneRatio   int       `json:"done_ratio"`
	CreatedOn   string    `json:"created_on"`
	UpdatedOn   string    `json:"updated_on"`
	Journals    []Journal `json:"journals,omitempty"`
}

// Membership links a user to a project.
type Membership struct {
	ID      int64 `json:"id"`
	Project Ref   `json:"project"`
}

// File is attachment content on its way into Redmine.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Upload references a file already sent to /uploads.json.
type Upload struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// NewIssue is the input for CreateIssue. Zero IDs are omitted so Redmine
// applies its own defaults.
type NewIssue struct {
	ProjectID   int64  `json:"project_id"`
	TrackerID   int64  `json:"tracker_id,omitempty"`
	PriorityID  int    `json:"priority_id,omitempty"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}
