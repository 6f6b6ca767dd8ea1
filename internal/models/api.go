package models

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

type StartSessionRequest struct {
	UserName string `json:"user_name"`
}

type LogPoseRequest struct {
	PoseData []PoseEvent `json:"pose_data"`
}

// APIResponse is the envelope every session endpoint replies with. Fields
// past Message are only set by /end_session.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`

	ReportPath    string `json:"report_path,omitempty"`
	PointsAwarded int    `json:"points_awarded,omitempty"`
	StorageStatus string `json:"storage_status,omitempty"`
	LimitMessage  string `json:"limit_message,omitempty"`
}

func (r APIResponse) OK() bool {
	return r.Status == StatusSuccess
}

type SessionStatus struct {
	SessionActive          bool   `json:"session_active"`
	PosesLogged            int    `json:"poses_logged"`
	CurrentUserUID         string `json:"current_user_uid"`
	CurrentUserDisplayName string `json:"current_user_display_name"`
}
