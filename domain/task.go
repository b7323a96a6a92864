package domain

// Task is a single note/task owned by one user. ID is assigned by the
// store when the task is first written and is empty before that.
type Task struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

// User is an account record. Passwords are stored and compared verbatim;
// hardening them is out of scope for this system.
type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
