package handlers

import "mime/multipart"

// ResultBody is the JSON shape of every /api/send response.
type ResultBody struct {
	Success bool   `doc:"Whether the submission was delivered"   json:"success"`
	Error   string `doc:"Human readable reason for a failure"    json:"error,omitempty"`
	ID      string `doc:"Identifier assigned to the submission" json:"id,omitempty"`
}

// SendRequest is the multipart form posted by the contact page.
type SendRequest struct {
	RawBody multipart.Form
}

// SendResponse reports the outcome of a submission. Status lets the handler
// answer with the same body shape on failures.
type SendResponse struct {
	Status int
	Body   ResultBody
}
