package firestore

import (
	"context"
	"errors"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

// SettingsRepository reads store-wide configuration documents.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[shippingSettingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{base: pfirestore.NewBaseRepository[shippingSettingsDocument](provider, settingsCollection)}, nil
}

// ShippingSettings loads settings/shipping. A missing document yields the zero
// settings, which price shipping at nothing.
func (r *SettingsRepository) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	doc, err := r.base.Get(ctx, shippingSettingsDoc)
	if err != nil {
		if isNotFound(err) {
			return domain.ShippingSettings{}, nil
		}
		return domain.ShippingSettings{}, err
	}
	return doc.toDomain(), nil
}

// PutShippingSettings replaces settings/shipping.
func (r *SettingsRepository) PutShippingSettings(ctx context.Context, settings domain.ShippingSettings) error {
	zones := make([]shippingZoneDocument, 0, len(settings.Zones))
	for _, z := range settings.Zones {
		zones = append(zones, shippingZoneDocument(z))
	}
	return r.base.Set(ctx, shippingSettingsDoc, shippingSettingsDocument{
		Method:          string(settings.Method),
		FlatRate:        settings.FlatRate,
		FreeAbove:       settings.FreeAbove,
		WeightBaseFee:   settings.WeightBaseFee,
		WeightRatePerKg: settings.WeightRatePerKg,
		Zones:           zones,
		DefaultZoneFee:  settings.DefaultZoneFee,
	})
}
