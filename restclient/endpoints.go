package restclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rustyeddy/dms-agent/identity"
)

// ServerURLGet fetches the Server Bootstrap Config (spec.md §4.5,
// v3/server_url/get), transparently handling the plaintext-or-AES
// envelope response.
func (c *Client) ServerURLGet(ctx context.Context, site, environment, uniqueID string) (BootstrapConfig, error) {
	body := map[string]string{
		"site":        site,
		"environment": environment,
		"unique_id":   uniqueID,
	}
	raw, err := c.do(ctx, http.MethodPost, "v3/server_url/get", body)
	debugLogAttempt("server_url/get", err)
	if err != nil {
		return BootstrapConfig{}, err
	}

	var cfg BootstrapConfig
	if err := c.decodeEnvelopeResponse(raw, &cfg); err != nil {
		return BootstrapConfig{}, err
	}
	return cfg, nil
}

// DeviceRegisterRequest is the payload of v2/device/register: device
// identity plus the derived BDID and the architecture list.
type DeviceRegisterRequest struct {
	UniqueID        string   `json:"unique_id"`
	Model           string   `json:"model"`
	Serial          string   `json:"serial"`
	Panel           string   `json:"panel"`
	Brand           string   `json:"brand"`
	DeviceType      string   `json:"device_type"`
	DeviceSubtype   string   `json:"device_subtype"`
	CountryCode     string   `json:"country_code"`
	FirmwareVersion string   `json:"firmware_version"`
	BDID            string   `json:"bdid"`
	Architecture    []string `json:"architecture"`
}

// DeviceRegister implements v2/device/register. A 422 response is
// surfaced as a validation-failure error per spec.md §4.5/§7.
func (c *Client) DeviceRegister(ctx context.Context, id identity.Identity) error {
	bdid, err := DeriveBDID(id.ClientID(), id.MACColon())
	if err != nil {
		return err
	}
	req := DeviceRegisterRequest{
		UniqueID:        id.ClientID(),
		Model:           id.Model,
		Serial:          id.Serial,
		Panel:           id.Panel,
		Brand:           id.Brand,
		DeviceType:      string(id.DeviceType),
		DeviceSubtype:   string(id.DeviceSubtype),
		CountryCode:     id.CountryCode,
		FirmwareVersion: id.FirmwareVersion,
		BDID:            bdid,
		Architecture:    id.Architecture,
	}
	_, err = c.do(ctx, http.MethodPost, "v2/device/register", req)
	debugLogAttempt("device/register", err)
	if apiErr, ok := err.(*Error); ok && apiErr.Status == http.StatusUnprocessableEntity {
		return newErr(KindRegistrationFailed, "validation failed", apiErr)
	}
	if err != nil {
		return newErr(KindRegistrationFailed, "register", err)
	}
	return nil
}

// DevicePincode implements v1/device/pincode.
func (c *Client) DevicePincode(ctx context.Context, uniqueID, kind string) (PincodeResponse, error) {
	path := fmtUniqueIDQuery("v1/device/pincode", uniqueID, "type", kind)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	debugLogAttempt("device/pincode", err)
	if err != nil {
		return PincodeResponse{}, newErr(KindPincodeFailed, "pincode", err)
	}
	var resp PincodeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return PincodeResponse{}, newErr(KindJSONParse, "parsing pincode response", err)
	}
	return resp, nil
}

// DeviceCountryCode implements v1/device/country-code.
func (c *Client) DeviceCountryCode(ctx context.Context, uniqueID string) (CountryCodeResponse, error) {
	path := fmtUniqueIDQuery("v1/device/country-code", uniqueID)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	debugLogAttempt("device/country-code", err)
	if err != nil {
		return CountryCodeResponse{}, err
	}
	var resp CountryCodeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CountryCodeResponse{}, newErr(KindJSONParse, "parsing country-code response", err)
	}
	return resp, nil
}

// simulatedControlConfigList is the deterministic fallback spec.md
// §4.5 requires when the real response fails to parse.
func simulatedControlConfigList() []ControlConfigItem {
	return []ControlConfigItem{
		{StatusProgressID: 0, Item: "simulated", Type: ItemTypeString, Value: "0"},
	}
}

// ControlConfigList implements v2/device/control-config/list. On
// parse failure it falls back to a deterministic simulation list
// rather than failing the command outright, per spec.md §4.5.
func (c *Client) ControlConfigList(ctx context.Context, uniqueID string) ([]ControlConfigItem, error) {
	path := fmtUniqueIDQuery("v2/device/control-config/list", uniqueID)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	debugLogAttempt("control-config/list", err)
	if err != nil {
		return simulatedControlConfigList(), err
	}

	var env controlConfigListEnvelope
	if jerr := json.Unmarshal(raw, &env); jerr != nil || env.ResultCode != "200" {
		return simulatedControlConfigList(), nil
	}
	return env.ControlConfigs, nil
}

// ControlProgressUpdate implements v1/device/control/progress/update.
func (c *Client) ControlProgressUpdate(ctx context.Context, uniqueID string, results []ControlProgressResult) error {
	body := map[string]any{
		"unique_id":      uniqueID,
		"control_result": results,
	}
	_, err := c.do(ctx, http.MethodPost, "v1/device/control/progress/update", body)
	debugLogAttempt("control/progress/update", err)
	return err
}

// LogUploadURLRequest is the payload of v1/device/log/uploadurl/attain.
type LogUploadURLRequest struct {
	MACAddress  string `json:"mac_address"`
	ContentType string `json:"content_type"`
	LogFile     string `json:"log_file"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
}

// LogUploadURLAttain implements v1/device/log/uploadurl/attain.
func (c *Client) LogUploadURLAttain(ctx context.Context, req LogUploadURLRequest) (UploadURLResponse, error) {
	raw, err := c.do(ctx, http.MethodPost, "v1/device/log/uploadurl/attain", req)
	debugLogAttempt("log/uploadurl/attain", err)
	if err != nil {
		return UploadURLResponse{}, err
	}
	var resp UploadURLResponse
	if jerr := json.Unmarshal(raw, &resp); jerr != nil {
		return UploadURLResponse{}, newErr(KindJSONParse, "parsing upload url response", jerr)
	}
	return resp, nil
}

// PutLogArtifact PUTs the artifact bytes to the presigned URL returned
// by LogUploadURLAttain. This is a plain, unsigned PUT: the URL itself
// carries the authorization.
func (c *Client) PutLogArtifact(ctx context.Context, uploadURL string, contentType string, data []byte) error {
	req, err := httpNewPut(ctx, uploadURL, contentType, data)
	if err != nil {
		return newErr(KindInvalidParam, "building upload request", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return newErr(KindNetwork, "uploading log artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return httpErr(resp.StatusCode, "uploading log artifact")
	}
	return nil
}

// FWUpdateList implements v1/device/fw-update/list, returning the raw
// JSON payload since the shape of a firmware manifest is
// DMS-deployment specific and outside this agent's reserved,
// inert fw_upgrade command path (spec.md §9).
func (c *Client) FWUpdateList(ctx context.Context, uniqueID string) (json.RawMessage, error) {
	path := fmtUniqueIDQuery("v1/device/fw-update/list", uniqueID)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	debugLogAttempt("fw-update/list", err)
	return raw, err
}

// FWProgressUpdateRequest is the payload of v1/device/fw/progress/update.
// Status and percentage are carried as strings on the wire since
// spec.md §6 requires accepting (and here, always sending) either
// representation; the DMS in practice expects strings for this
// endpoint.
type FWProgressUpdateRequest struct {
	MACAddress   string `json:"mac_address"`
	FWProgressID string `json:"fw_progress_id"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	Percentage   string `json:"percentage"`
	FailedCode   string `json:"failed_code,omitempty"`
	FailedReason string `json:"failed_reason,omitempty"`
}

// FWProgressUpdate implements v1/device/fw/progress/update. It is
// defined but, per spec.md §4.4/§9, not driven by the current
// fw_upgrade command implementation.
func (c *Client) FWProgressUpdate(ctx context.Context, req FWProgressUpdateRequest) error {
	_, err := c.do(ctx, http.MethodPost, "v1/device/fw/progress/update", req)
	debugLogAttempt("fw/progress/update", err)
	return err
}

// DeviceInfoUpdateRequest is the payload of v1/device/info/update.
type DeviceInfoUpdateRequest struct {
	UniqueID        string `json:"unique_id"`
	VersionCode     string `json:"version_code"`
	Serial          string `json:"serial"`
	CurrentDatetime string `json:"current_datetime"`
	FWVersion       string `json:"fw_version,omitempty"`
	Panel           string `json:"panel,omitempty"`
	CountryCode     string `json:"country_code,omitempty"`
}

// DeviceInfoUpdate implements v1/device/info/update.
func (c *Client) DeviceInfoUpdate(ctx context.Context, req DeviceInfoUpdateRequest) error {
	_, err := c.do(ctx, http.MethodPost, "v1/device/info/update", req)
	debugLogAttempt("device/info/update", err)
	if err != nil {
		return newErr(KindDeviceInfoUnavailable, "device/info/update", err)
	}
	return nil
}
