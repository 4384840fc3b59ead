package model

// Descriptor 启动下载任务的请求，同时作为重试时重新发起请求的依据
type Descriptor struct {
	Kind     TaskKind          `json:"kind" validate:"required,oneof=single collection"`
	SourceID string            `json:"source_id" validate:"required_without=URL"`
	URL      string            `json:"url" validate:"omitempty,url"`
	Title    string            `json:"title,omitempty"`
	Artist   string            `json:"artist,omitempty"`
	Quality  string            `json:"quality,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Clone 深拷贝
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Options != nil {
		c.Options = make(map[string]string, len(d.Options))
		for k, v := range d.Options {
			c.Options[k] = v
		}
	}
	return &c
}

// Label 返回用于展示的名称
func (d *Descriptor) Label() string {
	if d.Title != "" {
		return d.Title
	}
	if d.SourceID != "" {
		return d.SourceID
	}
	return d.URL
}
