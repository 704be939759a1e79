package handler

const (
	MsgNotAuthenticated   = "not authenticated"
	MsgInvalidCredentials = "invalid username or password"
	MsgInvalidRequestBody = "invalid request body"
	MsgSessionNotFound    = "session not found"
)
