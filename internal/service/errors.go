package service

import "errors"

var (
	ErrSoldOut        = errors.New("sold out")
	ErrDuplicateOrder = errors.New("already purchased")
	ErrSaleNotActive  = errors.New("sale not active")
	ErrShopNotFound   = errors.New("shop not found")
	ErrVoucherMissing = errors.New("voucher not found")
	ErrInvalidInput   = errors.New("invalid input")
)
