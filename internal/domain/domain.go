package domain

type Task struct {
	ID                string   `json:"id"`
	OwnerID           string   `json:"ownerId"`
	ProjectID         *string  `json:"projectId,omitempty"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Status            string   `json:"status" enum:"pending,in_progress,completed"`
	Priority          int      `json:"priority" minimum:"1" maximum:"5"`
	DueDate           *string  `json:"dueDate,omitempty"`
	DueTime           *string  `json:"dueTime,omitempty"`
	TagIDs            []string `json:"tagIds,omitempty"`
	Position          int      `json:"position"`
	CompletedAt       *string  `json:"completedAt,omitempty" format:"date-time"`
	Recurring         bool     `json:"recurring"`
	RecurrenceRule    *string  `json:"recurrenceRule,omitempty"`
	RecurrenceType    *string  `json:"recurrenceType,omitempty" enum:"daily,weekly,monthly"`
	RecurrenceEndDate *string  `json:"recurrenceEndDate,omitempty"`
	OriginTaskID      *string  `json:"originTaskId,omitempty"`
	CreatedAt         string   `json:"createdAt" format:"date-time"`
	UpdatedAt         string   `json:"updatedAt" format:"date-time"`
}

type Project struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	Position    int     `json:"position"`
	Archived    bool    `json:"archived"`
	ArchivedAt  *string `json:"archivedAt,omitempty" format:"date-time"`
	CreatedAt   string  `json:"createdAt" format:"date-time"`
	UpdatedAt   string  `json:"updatedAt" format:"date-time"`
}

type Tag struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"ownerId"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	Payload    string `json:"payload,omitempty"`
}
