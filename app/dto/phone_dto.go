package dto

// ProvisionNumberRequest purchases and assigns a number for an expert
type ProvisionNumberRequest struct {
	ExpertUUID  string `json:"expert_uuid" validate:"required,uuid4"`
	CountryCode string `json:"country_code,omitempty" validate:"omitempty,len=2"`
}

// ReleaseNumberRequest returns an expert's number to the provider
type ReleaseNumberRequest struct {
	ExpertUUID string `json:"expert_uuid" validate:"required,uuid4"`
}

// PhoneNumberDTO is the API representation of a provisioned number
type PhoneNumberDTO struct {
	UUID             string   `json:"uuid"`
	Number           string   `json:"number"`
	Status           string   `json:"status"`
	AssignmentStatus string   `json:"assignment_status"`
	Capabilities     []string `json:"capabilities"`
	MonthlyCostUSD   float64  `json:"monthly_cost_usd"`
	CreatedAt        string   `json:"created_at"`
}

// ProvisionNumberResponse is returned after provisioning
type ProvisionNumberResponse struct {
	PhoneNumber PhoneNumberDTO `json:"phone_number"`
}

// ReleaseNumberResponse is returned after release
type ReleaseNumberResponse struct {
	Released    bool   `json:"released"`
	PhoneNumber string `json:"phone_number,omitempty"`
}
