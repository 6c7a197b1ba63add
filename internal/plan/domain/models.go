package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tier names a subscription plan level.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierBasic      Tier = "BASIC"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// ParseTier normalizes s and checks it against the known tiers.
func ParseTier(s string) (Tier, error) {
	tier := Tier(strings.ToUpper(strings.TrimSpace(s)))
	switch tier {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return tier, nil
	default:
		return "", ErrInvalidTier
	}
}

func (t Tier) String() string { return string(t) }

// Plan is one row per tier.
type Plan struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id,string"`
	Tier            Tier                        `gorm:"type:text;not null;uniqueIndex" json:"tier"`
	Name            string                      `gorm:"type:text;not null" json:"name"`
	Slug            string                      `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	PriceID         *string                     `gorm:"type:text" json:"price_id,omitempty"`
	Credits         int64                       `gorm:"not null;default:0" json:"credits"`
	CreditsPerMonth int64                       `gorm:"not null;default:0" json:"credits_per_month"`
	PriceAmount     int64                       `gorm:"not null;default:0" json:"price_amount"`
	Features        datatypes.JSONSlice[string] `json:"features"`
	CreatedAt       time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// Purchasable reports whether the plan can be bought through checkout.
func (p Plan) Purchasable() bool {
	return p.PriceID != nil && strings.TrimSpace(*p.PriceID) != ""
}

// PriceIDValue returns the provider price id or "".
func (p Plan) PriceIDValue() string {
	if p.PriceID == nil {
		return ""
	}
	return *p.PriceID
}
