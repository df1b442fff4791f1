package logger

import "go.uber.org/zap"

func Err(err error) zap.Field { return zap.Error(err) }

func OrderID(v string) zap.Field { return zap.String("order_id", v) }

func OrderNumber(v string) zap.Field { return zap.String("order_number", v) }

func UserID(v string) zap.Field { return zap.String("user_id", v) }

func CartID(v string) zap.Field { return zap.String("cart_id", v) }

func VariantID(v string) zap.Field { return zap.String("variant_id", v) }

func SKU(v string) zap.Field { return zap.String("sku", v) }

func ReservationID(v string) zap.Field { return zap.String("reservation_id", v) }

func IdempotencyKey(v string) zap.Field { return zap.String("idempotency_key", v) }

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func EventID(v string) zap.Field { return zap.String("event_id", v) }
