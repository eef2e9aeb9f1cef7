package models

import "time"

// DestinationType is the kind of S3-compatible replication target
type DestinationType string

const (
	DestinationS3 DestinationType = "s3"
	DestinationR2 DestinationType = "r2"
)

// ReplicationMode controls how a destination is treated by the pipeline
type ReplicationMode string

const (
	ReplicationMirror  ReplicationMode = "mirror"
	ReplicationArchive ReplicationMode = "archive"
)

// Credentials for an S3-compatible destination
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId" yaml:"access_key_id"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"secret_access_key"`
}

// StorageDestinationConfig is a user-configured replication target
type StorageDestinationConfig struct {
	ID              string          `json:"id" yaml:"id"`
	UserID          string          `json:"userId" yaml:"user_id"`
	Type            DestinationType `json:"type" yaml:"type"`
	Bucket          string          `json:"bucket" yaml:"bucket"`
	Region          string          `json:"region,omitempty" yaml:"region"`
	Endpoint        string          `json:"endpoint,omitempty" yaml:"endpoint"`
	Credentials     Credentials     `json:"credentials" yaml:"credentials"`
	ForcePathStyle  bool            `json:"forcePathStyle" yaml:"force_path_style"`
	IsEnabled       bool            `json:"isEnabled" yaml:"is_enabled"`
	ReplicationMode ReplicationMode `json:"replicationMode" yaml:"replication_mode"`

	LastValidationStatus string     `json:"lastValidationStatus,omitempty" yaml:"-"`
	LastValidatedAt      *time.Time `json:"lastValidatedAt,omitempty" yaml:"-"`
	LastError            string     `json:"lastError,omitempty" yaml:"-"`
}

// Name identifies the destination in logs and reports
func (d StorageDestinationConfig) Name() string {
	if d.ID != "" {
		return string(d.Type) + ":" + d.ID
	}
	return string(d.Type) + ":" + d.Bucket
}
