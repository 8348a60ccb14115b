package model

// Author は著者を表す。
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Book は蔵書を表す。
// AvailableCopies は 0 以上 TotalCopies 以下であることを意図するが、
// 管理者による直接更新で一時的に外れることがある。
type Book struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year"`
	ISBN            string `json:"isbn"`
	AuthorID        int64  `json:"author_id"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}
