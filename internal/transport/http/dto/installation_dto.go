package dto

import (
	"net"

	"github.com/replforge/backend/internal/domain"
)

// InstallationRequest holds the non-file form fields of an installation
// submission.
type InstallationRequest struct {
	PrimaryIP    string `form:"primary_ip"`
	SecondaryIP  string `form:"secondary_ip"`
	OSType       string `form:"os_type"`
	MongoVersion string `form:"mongo_version"`
}

func (r *InstallationRequest) Validate(catalog domain.Catalog) []string {
	var errors []string

	if r.PrimaryIP == "" {
		errors = append(errors, "primary_ip is required")
	} else if !isIPv4(r.PrimaryIP) {
		errors = append(errors, "primary_ip is not a valid IPv4 address")
	}

	if r.SecondaryIP == "" {
		errors = append(errors, "secondary_ip is required")
	} else if !isIPv4(r.SecondaryIP) {
		errors = append(errors, "secondary_ip is not a valid IPv4 address")
	}

	if r.PrimaryIP != "" && r.PrimaryIP == r.SecondaryIP {
		errors = append(errors, "primary_ip and secondary_ip must differ")
	}

	if r.OSType == "" {
		errors = append(errors, "os_type is required")
	} else if !catalog.SupportsOS(r.OSType) {
		errors = append(errors, "os_type is not supported")
	}

	if r.MongoVersion == "" {
		errors = append(errors, "mongo_version is required")
	} else if !catalog.SupportsVersion(r.MongoVersion) {
		errors = append(errors, "mongo_version is not supported")
	}

	return errors
}

func (r *InstallationRequest) ToDomain(taskID, keyPath string) domain.InstallRequest {
	return domain.InstallRequest{
		TaskID:      taskID,
		PrimaryIP:   r.PrimaryIP,
		SecondaryIP: r.SecondaryIP,
		OSFamily:    r.OSType,
		Version:     r.MongoVersion,
		KeyPath:     keyPath,
	}
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

type InstallationResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type TaskStatusResponse struct {
	Status  domain.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

func TaskToResponse(record domain.TaskRecord) TaskStatusResponse {
	return TaskStatusResponse{Status: record.Status, Message: record.Message}
}

type CatalogResponse struct {
	OSTypes       []string `json:"os_types"`
	MongoVersions []string `json:"mongo_versions"`
}

type TimelineEventResponse struct {
	Type      string             `json:"type"`
	Status    domain.EventStatus `json:"status"`
	Message   string             `json:"message"`
	Host      string             `json:"host,omitempty"`
	CreatedAt string             `json:"created_at"`
}

func TimelineToResponse(events []domain.TimelineEvent) []TimelineEventResponse {
	responses := make([]TimelineEventResponse, len(events))
	for i, e := range events {
		responses[i] = TimelineEventResponse{
			Type:      e.Type,
			Status:    e.Status,
			Message:   e.Message,
			Host:      e.Host,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return responses
}
