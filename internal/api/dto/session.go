package dto

type TokenResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type LoginInfo struct {
	Message string   `json:"message"`
	Fields  []string `json:"fields"`
}
