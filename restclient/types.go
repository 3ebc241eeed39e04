package restclient

// BootstrapConfig is the Server Bootstrap Config of spec.md §3,
// fetched once from v3/server_url/get.
type BootstrapConfig struct {
	APIURL      string `json:"api_url"`
	MQTTURL     string `json:"mqtt_url"`
	MQTTIoTURL  string `json:"mqtt_iot_url"`
	MDAJSONURL  string `json:"mda_json_url"`
	HasCertInfo bool   `json:"has_cert_info"`
	CertPath    string `json:"cert_path"`
	CertMD5     string `json:"cert_md5"`
	CertSize    int64  `json:"cert_size"`
}

// ControlConfigItemType is the type tag on a Control Config Item.
type ControlConfigItemType int

const (
	ItemTypeString     ControlConfigItemType = 1
	ItemTypeJSONObject ControlConfigItemType = 2
)

// ControlConfigItem is one entry of the ordered sequence returned by
// v2/device/control-config/list (spec.md §3).
type ControlConfigItem struct {
	StatusProgressID int                   `json:"status_progress_id"`
	Item             string                `json:"item"`
	Type             ControlConfigItemType `json:"type"`
	Value            string                `json:"value"`
}

// ControlProgressStatus is posted back per item to
// v1/device/control/progress/update.
type ControlProgressStatus int

const (
	ProgressSuccess ControlProgressStatus = 1
	ProgressFailed  ControlProgressStatus = 2
)

// ControlProgressResult is one element of the control_result array
// POSTed to v1/device/control/progress/update.
type ControlProgressResult struct {
	StatusProgressID int                   `json:"status_progress_id"`
	Status           ControlProgressStatus `json:"status"`
	FailedCode       string                `json:"failed_code,omitempty"`
	FailedReason     string                `json:"failed_reason,omitempty"`
}

// PincodeResponse is the result of v1/device/pincode.
type PincodeResponse struct {
	Pincode   string `json:"pincode"`
	ExpiredAt string `json:"expired_at"`
}

// CountryCodeResponse is the result of v1/device/country-code.
type CountryCodeResponse struct {
	CountryCode string `json:"country_code"`
}

// UploadURLResponse is the result of v1/device/log/uploadurl/attain.
type UploadURLResponse struct {
	UploadURL string `json:"upload_url"`
}

// FWProgressStatus mirrors ControlProgressStatus for firmware updates.
// FWProgressUpdateRequest carries status as a plain string, so these
// values go on the wire in string form; no response carrying them is
// decoded by this package.
type FWProgressStatus int

const (
	FWProgressSuccess FWProgressStatus = 1
	FWProgressFailed  FWProgressStatus = 2
)

// controlConfigListEnvelope is the raw shape of a successful
// control-config/list response before the result_code check.
type controlConfigListEnvelope struct {
	ResultCode     string              `json:"result_code"`
	ControlConfigs []ControlConfigItem `json:"control-configs"`
}
