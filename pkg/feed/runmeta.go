package feed

import "time"

// RunMeta is the immutable-for-the-run bundle the batch runner loads
// once per feed run: the feed snapshot, output path, channel rendering
// details and the attribute relation table. It is persisted alongside
// the queued batches and deleted when the run completes.
type RunMeta struct {
	RunKey     string            `json:"run_key"`
	Feed       Feed              `json:"feed"`
	FilePath   string            `json:"file_path"`
	Channel    ChannelDetails    `json:"channel"`
	Relation   map[string]string `json:"relation"`
	Unattended bool              `json:"unattended,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
}
