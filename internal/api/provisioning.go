package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/riftline/msgcore/internal/provisioning"
)

// ProvisioningClient adapts Client to internal/provisioning.Client.
type ProvisioningClient struct {
	c Client
}

// NewProvisioningClient wraps c for use by internal/provisioning.
func NewProvisioningClient(c Client) *ProvisioningClient {
	return &ProvisioningClient{c: c}
}

type createProvisioningResponse struct {
	DeviceID string `json:"device_id"`
}

// CreateProvisioning issues POST /provisionings.
func (p *ProvisioningClient) CreateProvisioning(ctx context.Context, deviceID string) (string, error) {
	var resp createProvisioningResponse
	if err := p.c.Post(ctx, "/provisionings", map[string]string{"device_id": deviceID}, &resp); err != nil {
		return "", err
	}
	return resp.DeviceID, nil
}

type pollProvisioningResponse struct {
	Secret string `json:"secret"`
}

// PollProvisioning issues GET /provisionings/:device_id.
func (p *ProvisioningClient) PollProvisioning(ctx context.Context, serverDeviceID string) (string, bool, error) {
	var resp pollProvisioningResponse
	if err := p.c.Get(ctx, fmt.Sprintf("/provisionings/%s", serverDeviceID), &resp); err != nil {
		return "", false, err
	}
	return resp.Secret, resp.Secret != "", nil
}

// VerifyProvisioning issues POST /provisionings/verify.
func (p *ProvisioningClient) VerifyProvisioning(ctx context.Context, req provisioning.VerifyRequest) (*provisioning.Account, error) {
	var raw json.RawMessage
	if err := p.c.Post(ctx, "/provisionings/verify", req, &raw); err != nil {
		return nil, err
	}
	return &provisioning.Account{Raw: raw}, nil
}
