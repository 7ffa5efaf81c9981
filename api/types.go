package api

import "quadrantd/domain"

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type deleteResponse struct {
	UndoToken string `json:"undoToken"`
}

type sweepResponse struct {
	Updated int `json:"updated"`
}

type quadrantRequest struct {
	Quadrant int `json:"quadrant"`
}

type statusRequest struct {
	Status int `json:"status"`
}

type deferRequest struct {
	Days int64 `json:"days"`
}

type quadrantStats struct {
	Quadrant   int `json:"quadrant"`
	Total      int `json:"total"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
	Pinned     int `json:"pinned"`
}

type statsResponse struct {
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Overdue   int             `json:"overdue"`
	Quadrants []quadrantStats `json:"quadrants"`
}
