/*-------------------------------------------------------------------------
 *
 * config.go
 *    Webhook definition files for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/pkg/config/config.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

/* WebhookFile is a webhook definition kept in version control */
type WebhookFile struct {
	Name              string            `yaml:"name"`
	URL               string            `yaml:"url"`
	Description       *string           `yaml:"description,omitempty"`
	Events            []string          `yaml:"events"`
	ProjectFilter     *string           `yaml:"project_filter,omitempty"`
	WorkflowFilter    *string           `yaml:"workflow_filter,omitempty"`
	MaxRetries        *int              `yaml:"max_retries,omitempty"`
	RetryDelaySeconds *int              `yaml:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    *int              `yaml:"timeout_seconds,omitempty"`
	CustomHeaders     map[string]string `yaml:"custom_headers,omitempty"`
	IsActive          *bool             `yaml:"is_active,omitempty"`
}

func LoadWebhookFile(path string) (*WebhookFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook file: path='%s', error=%w", path, err)
	}
	var f WebhookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse webhook file: path='%s', error=%w", path, err)
	}
	return &f, nil
}

func (f *WebhookFile) CreateInput() webhooks.CreateWebhookInput {
	return webhooks.CreateWebhookInput{
		Name:              f.Name,
		URL:               f.URL,
		Description:       f.Description,
		Events:            f.Events,
		ProjectFilter:     f.ProjectFilter,
		WorkflowFilter:    f.WorkflowFilter,
		MaxRetries:        f.MaxRetries,
		RetryDelaySeconds: f.RetryDelaySeconds,
		TimeoutSeconds:    f.TimeoutSeconds,
		CustomHeaders:     f.CustomHeaders,
		IsActive:          f.IsActive,
	}
}

/* UpdateInput sends only the fields present in the file */
func (f *WebhookFile) UpdateInput() webhooks.UpdateWebhookInput {
	in := webhooks.UpdateWebhookInput{
		Description:       f.Description,
		ProjectFilter:     f.ProjectFilter,
		WorkflowFilter:    f.WorkflowFilter,
		MaxRetries:        f.MaxRetries,
		RetryDelaySeconds: f.RetryDelaySeconds,
		TimeoutSeconds:    f.TimeoutSeconds,
		IsActive:          f.IsActive,
	}
	if f.Name != "" {
		in.Name = &f.Name
	}
	if f.URL != "" {
		in.URL = &f.URL
	}
	if f.Events != nil {
		in.Events = &f.Events
	}
	if f.CustomHeaders != nil {
		in.CustomHeaders = &f.CustomHeaders
	}
	return in
}
