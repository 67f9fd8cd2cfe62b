package provider

import (
	"fmt"
	"strings"
)

// Kind selects which adapter capability a task invokes.
type Kind string

const (
	KindUpload Kind = "upload"
	KindShare  Kind = "share"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindUpload:
		return KindUpload, nil
	case KindShare:
		return KindShare, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", s)
	}
}

// Options is the tagged union of per-kind task options. It is implemented
// only by UploadOptions and ShareOptions.
type Options interface {
	Kind() Kind
	clone() Options
}

// UploadOptions are the options of an upload task.
type UploadOptions struct {
	FileName string            `json:"file_name,omitempty"`
	Folder   string            `json:"folder,omitempty"`
	IsPublic bool              `json:"is_public,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (UploadOptions) Kind() Kind { return KindUpload }

func (o UploadOptions) clone() Options {
	if o.Metadata != nil {
		md := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			md[k] = v
		}
		o.Metadata = md
	}
	return o
}

// ShareOptions are the options of a share task.
type ShareOptions struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsPrivate   bool     `json:"is_private,omitempty"`
}

func (ShareOptions) Kind() Kind { return KindShare }

func (o ShareOptions) clone() Options {
	if o.Tags != nil {
		o.Tags = append([]string(nil), o.Tags...)
	}
	return o
}

// CloneOptions returns a deep copy of opts. Nil stays nil.
func CloneOptions(opts Options) Options {
	if opts == nil {
		return nil
	}
	return opts.clone()
}

// DefaultOptions returns zero options for a kind.
func DefaultOptions(kind Kind) Options {
	if kind == KindShare {
		return ShareOptions{}
	}
	return UploadOptions{}
}
