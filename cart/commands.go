package cart

// AddCartItem adds a quantity of a product to the guest's cart, creating the
// cart on first use.
type AddCartItem struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

func (c *AddCartItem) AggregateID() string { return c.GuestToken }
func (c *AddCartItem) CommandType() string { return "AddCartItem" }

// RemoveCartItem removes a product from the cart.
type RemoveCartItem struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
}

func (c *RemoveCartItem) AggregateID() string { return c.GuestToken }
func (c *RemoveCartItem) CommandType() string { return "RemoveCartItem" }

// UpdateCartItemQty sets the quantity of a product already in the cart.
type UpdateCartItemQty struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

func (c *UpdateCartItemQty) AggregateID() string { return c.GuestToken }
func (c *UpdateCartItemQty) CommandType() string { return "UpdateCartItemQty" }

// ClearCart empties the cart after its contents became an order.
type ClearCart struct {
	GuestToken string `json:"guestToken"`
	OrderID    string `json:"orderId"`
}

func (c *ClearCart) AggregateID() string { return c.GuestToken }
func (c *ClearCart) CommandType() string { return "ClearCart" }

// GetCartSnapshot asks the cart context to broadcast the cart's current
// contents for the order being checked out. It mutates nothing.
type GetCartSnapshot struct {
	GuestToken string `json:"guestToken"`
	OrderID    string `json:"orderId"`
}

func (c *GetCartSnapshot) AggregateID() string { return c.GuestToken }
func (c *GetCartSnapshot) CommandType() string { return "GetCartSnapshot" }
