package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Harish1404/Anozon-E-commerce/auth"
	"github.com/Harish1404/Anozon-E-commerce/cart"
	"github.com/Harish1404/Anozon-E-commerce/catalog"
	"github.com/Harish1404/Anozon-E-commerce/config"
	"github.com/Harish1404/Anozon-E-commerce/favorites"
	"github.com/Harish1404/Anozon-E-commerce/httpclient"
	"github.com/Harish1404/Anozon-E-commerce/logger"
)

const usage = `usage: storefront <command> [args]

account:
  signup <username> <email> <password>   register a new account
  login <email> <password>               sign in and persist tokens
  logout                                 sign out and drop tokens
  me                                     show the signed-in profile

catalog:
  products [category]                    list products
  product <id>                           show one product

cart:
  cart                                   show the cart
  cart-add <product-id> [quantity]       add a product
  cart-remove <product-id>               remove a product
  cart-clear                             empty the cart

favorites:
  favorites                              list favorited product ids
  fav-toggle <product-id>                flip a product's favorite state
`

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// client bundles the wired components behind the CLI commands.
type client struct {
	session   *auth.SessionManager
	catalog   *catalog.Client
	cart      *cart.Sync
	favorites *favorites.Sync
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logger.
	log := logger.New("storefront", cfg.LogLevel)
	log.Debug("starting storefront client",
		slog.String("environment", cfg.Environment),
		slog.String("api_url", cfg.APIBaseURL),
	)

	c, err := wire(cfg, log)
	if err != nil {
		return err
	}

	// Cancel in-flight requests on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c.session.Initialize(ctx)

	return dispatch(ctx, c, args[0], args[1:])
}

// wire builds the component graph: transport, token store, session, and the
// account-scoped mirrors.
func wire(cfg *config.Config, log *slog.Logger) (*client, error) {
	httpc := httpclient.New(httpclient.Config{
		Timeout:         time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.HTTPMaxRetries,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 10,
	})
	breaker := httpclient.NewCircuitBreakerClient(httpc,
		httpclient.DefaultCircuitBreakerConfig("storefront-api"), log)

	store, err := auth.NewFileStore(cfg.TokenFile, cfg.AccessTokenKey, cfg.RefreshTokenKey)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	session := auth.NewSessionManager(cfg.APIBaseURL, store, httpc, log)
	dispatcher := auth.NewDispatcher(cfg.APIBaseURL, breaker, store, session, log)
	if cfg.RequestsPerSecond > 0 {
		dispatcher = dispatcher.WithRateLimit(cfg.RequestsPerSecond, 1)
	}

	cat := catalog.NewClient(dispatcher, log)
	return &client{
		session:   session,
		catalog:   cat,
		cart:      cart.NewSync(dispatcher, session, cat, log),
		favorites: favorites.NewSync(dispatcher, session, log),
	}, nil
}

func dispatch(ctx context.Context, c *client, command string, args []string) error {
	switch command {
	case "signup":
		if len(args) != 3 {
			return fmt.Errorf("usage: signup <username> <email> <password>")
		}
		msg, err := c.session.Signup(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: login <email> <password>")
		}
		if err := c.session.Login(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("signed in as %s\n", args[0])
		return nil

	case "logout":
		if err := c.session.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	case "me":
		profile, err := c.session.CurrentUser(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("email: %s\n", profile.Email)
		if role := c.session.Role(); role != "" {
			fmt.Printf("role:  %s\n", role)
		}
		return nil

	case "products":
		params := catalog.ListParams{}
		if len(args) > 0 {
			params.Category = args[0]
		}
		products, err := c.catalog.List(ctx, params)
		if err != nil {
			return err
		}
		return printJSON(products)

	case "product":
		if len(args) != 1 {
			return fmt.Errorf("usage: product <id>")
		}
		product, err := c.catalog.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(product)

	case "cart":
		if err := c.cart.Load(ctx); err != nil {
			return err
		}
		if err := printJSON(c.cart.Lines()); err != nil {
			return err
		}
		fmt.Printf("items: %d  total: %.2f\n", c.cart.Count(), c.cart.Total())
		return nil

	case "cart-add":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: cart-add <product-id> [quantity]")
		}
		quantity := 1
		if len(args) == 2 {
			q, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			quantity = q
		}
		if err := c.cart.Add(ctx, args[0], quantity); err != nil {
			return err
		}
		fmt.Printf("added %s x%d (items: %d)\n", args[0], quantity, c.cart.Count())
		return nil

	case "cart-remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: cart-remove <product-id>")
		}
		if err := c.cart.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s (items: %d)\n", args[0], c.cart.Count())
		return nil

	case "cart-clear":
		if err := c.cart.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("cart cleared")
		return nil

	case "favorites":
		if err := c.favorites.Load(ctx); err != nil {
			return err
		}
		return printJSON(c.favorites.IDs())

	case "fav-toggle":
		if len(args) != 1 {
			return fmt.Errorf("usage: fav-toggle <product-id>")
		}
		result, err := c.favorites.Toggle(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
