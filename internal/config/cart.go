package config

// CartConfig holds cart behaviour toggles.
type CartConfig struct {
	// PruneIneligibleGifts removes gift lines whose rule stopped qualifying.
	PruneIneligibleGifts bool `envconfig:"PRUNE_INELIGIBLE_GIFTS" default:"true"`

	// PricesIncludeTax selects whether the subtotal used by rules includes tax.
	PricesIncludeTax bool `envconfig:"PRICES_INCLUDE_TAX" default:"false"`

	// MaxItems caps distinct lines per cart.
	MaxItems int `envconfig:"MAX_ITEMS" default:"200" validate:"min=1"`

	// MaxLineQuantity caps the quantity of one regular line. Gift lines are always 1.
	MaxLineQuantity int `envconfig:"MAX_LINE_QUANTITY" default:"999" validate:"min=1,max=100000"`
}
