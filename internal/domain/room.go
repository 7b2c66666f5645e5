package domain

import "time"

type ChatRoom struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Business struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Member struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}
