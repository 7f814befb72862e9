package task

const (
	TaskTypeUploadBatch   = "upload_batch"
	TaskTypeRemoteCommand = "remote_command"
)

type UploadBatchPayload struct {
	LocalPaths []string `json:"local_paths"`
}

type RemoteCommandPayload struct {
	Command string `json:"command"`
}
