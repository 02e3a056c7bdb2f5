package transport

import (
	"time"

	"shopfront/internal/domain"

	"github.com/shopspring/decimal"
)

const timeLayout = time.RFC3339

// CartResponse is a cart with its snapshot total
type CartResponse struct {
	*domain.Cart
	Total decimal.Decimal `json:"total"`
}

func newCartResponse(cart *domain.Cart) CartResponse {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return CartResponse{Cart: cart, Total: cart.Total()}
}

// OrderResponse is an order with the total charged at checkout
type OrderResponse struct {
	*domain.Order
	Total decimal.Decimal `json:"total"`
}

func newOrderResponse(order *domain.Order) OrderResponse {
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	return OrderResponse{Order: order, Total: order.TotalPrice()}
}

func newOrderResponses(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	return out
}

// ProductListResponse is one page of products
type ProductListResponse struct {
	Items    []*domain.Product `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func newProductList(products []*domain.Product, total int, filter domain.ProductFilter) ProductListResponse {
	if products == nil {
		products = []*domain.Product{}
	}
	return ProductListResponse{Items: products, Total: total, Page: filter.Page, PageSize: filter.PageSize}
}
