package gitlab

// Project holds the metadata subset of a GitLab project this service uses.
type Project struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

// Label is a project label, used to build the name→color presentation map.
type Label struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Board is an issue board definition.
type Board struct {
	ID    int         `json:"id"`
	Name  string      `json:"name"`
	Lists []BoardList `json:"lists,omitempty"`
}

// BoardList is one column template of an issue board. It is either bound to a
// label or carries a list type ("backlog", "closed", ...); upstream order
// defines column order.
type BoardList struct {
	ID       int        `json:"id"`
	Label    *ListLabel `json:"label"`
	ListType string     `json:"list_type"`
	Position int        `json:"position"`
}

// ListLabel is the label a board list is bound to.
type ListLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// User is a project member.
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Milestone is the subset of milestone data the dashboards need.
type Milestone struct {
	ID      int    `json:"id,omitempty"`
	Title   string `json:"title"`
	DueDate string `json:"due_date,omitempty"`
	State   string `json:"state,omitempty"`
}

// Issue is a GitLab issue. Date fields are kept as the ISO strings GitLab
// returns; nullable ones are pointers so absence survives a round trip.
type Issue struct {
	ID          int        `json:"id"`
	IID         int        `json:"iid"`
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	Labels      []string   `json:"labels"`
	Assignee    *User      `json:"assignee"`
	Assignees   []User     `json:"assignees"`
	Milestone   *Milestone `json:"milestone"`
	DueDate     *string    `json:"due_date"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	ClosedAt    *string    `json:"closed_at"`
	WebURL      string     `json:"web_url"`
}

// MergeRequest is a merge request related to an issue.
type MergeRequest struct {
	ID     int    `json:"id"`
	IID    int    `json:"iid"`
	Title  string `json:"title"`
	State  string `json:"state"`
	WebURL string `json:"web_url"`
}
