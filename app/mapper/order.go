package mapper

import (
	"time"

	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/types"
)

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		ID:         item.PublicID,
		BuyerName:  item.BuyerName,
		BuyerEmail: item.BuyerEmail,
		BuyerPhone: item.BuyerPhone,
		BuyerTaxID: derefString(item.BuyerTaxID),
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPriceCLP,
		Total:      item.TotalCLP,
		Currency:   item.Currency,
		Status:     types.OrderStatus(item.Status).String(),
		PaidAt:     formatOptionalTime(item.PaidAt),
		CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
