package models

type Identifier interface {
	GetId() int
}

// input items carrying an existing row id (0 for new rows)
type HasId struct {
	ID int `json:"id"`
}

func (h HasId) GetId() int {
	return h.ID
}

// input items flagged for removal by the editor
type HasIsDeleted struct {
	IsDeletedItem bool `json:"isDeletedItem"`
}

func (i HasIsDeleted) IsDeleted() bool {
	return i.IsDeletedItem
}
