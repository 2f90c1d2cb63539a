package models

// Profile is the role-specific view of a user. Exactly one variant applies.
type Profile interface {
	Role() string
}

// Referrer is implemented by profiles that own a referral code.
type Referrer interface {
	Profile
	Code() string
	Share() float64
}

type RegularProfile struct{}

type AffiliateProfile struct {
	ReferralCode string
	RevenueShare float64
}

type PartnerProfile struct {
	ReferralCode string
	RevenueShare float64
	Approved     bool
}

type AdminProfile struct{}

func (RegularProfile) Role() string   { return ROLE_USER }
func (AffiliateProfile) Role() string { return ROLE_AFFILIATE }
func (PartnerProfile) Role() string   { return ROLE_PARTNER }
func (AdminProfile) Role() string     { return ROLE_ADMIN }

func (p AffiliateProfile) Code() string   { return p.ReferralCode }
func (p AffiliateProfile) Share() float64 { return p.RevenueShare }
func (p PartnerProfile) Code() string     { return p.ReferralCode }
func (p PartnerProfile) Share() float64   { return p.RevenueShare }

// Profile projects the flat role columns into the matching variant.
func (u *User) Profile() Profile {
	code := ""
	if u.ReferralCode != nil {
		code = *u.ReferralCode
	}
	switch u.Role {
	case ROLE_ADMIN:
		return AdminProfile{}
	case ROLE_PARTNER:
		return PartnerProfile{ReferralCode: code, RevenueShare: u.RevenueShare, Approved: u.PartnerApproved}
	case ROLE_AFFILIATE:
		return AffiliateProfile{ReferralCode: code, RevenueShare: u.RevenueShare}
	default:
		return RegularProfile{}
	}
}

// SetProfile writes a variant back into the flat columns, clearing the
// fields the new role does not own.
func (u *User) SetProfile(p Profile) {
	u.Role = p.Role()
	u.ReferralCode = nil
	u.RevenueShare = 0
	u.PartnerApproved = false

	switch v := p.(type) {
	case AffiliateProfile:
		code := v.ReferralCode
		u.ReferralCode = &code
		u.RevenueShare = v.RevenueShare
	case PartnerProfile:
		code := v.ReferralCode
		u.ReferralCode = &code
		u.RevenueShare = v.RevenueShare
		u.PartnerApproved = v.Approved
	}
}
