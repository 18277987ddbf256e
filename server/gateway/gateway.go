// Package gateway is the one in-scope HTTP surface of the core: the
// remote-signing endpoint POST /<warehouse-id>/v1/aws/s3/sign (spec
// §4.4/§6). The full Iceberg REST router and the management API sit
// outside the core; they mount alongside this app and share
// its error projection.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/commit"
	"github.com/gear6io/icecatalog/server/storageaccess"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// PrincipalResolver turns a bearer credential into a principal. Token
// verification against the OpenID provider is external plumbing (spec
// §1); the gateway only needs the resolved identity.
type PrincipalResolver interface {
	Resolve(ctx context.Context, bearerToken string) (authz.Principal, error)
}

type Options struct {
	Broker     *storageaccess.Broker
	Store      *catalogstore.Store
	// Engine is not routed here; it is carried so the external REST
	// router mounting App() as a sub-app reaches the commit surface
	// through the same wiring point.
	Engine     *commit.Engine
	Principals PrincipalResolver
	Logger     zerolog.Logger
	// IncludeStack mirrors the debug.extended-logs flag: error bodies
	// carry the formatted stack only when it is set.
	IncludeStack bool
}

type Gateway struct {
	app  *fiber.App
	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Gateway {
	g := &Gateway{opts: opts, log: opts.Logger}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          g.respondError,
	})
	app.Post("/:warehouse/v1/aws/s3/sign", g.handleSign)
	g.app = app
	return g
}

// Listen blocks serving the signing endpoint until Shutdown.
func (g *Gateway) Listen(addr string) error {
	return g.app.Listen(addr)
}

func (g *Gateway) Shutdown() error {
	return g.app.Shutdown()
}

// App exposes the fiber app so the external router can mount it as a
// sub-app and so tests can drive it with app.Test.
func (g *Gateway) App() *fiber.App {
	return g.app
}

// Engine exposes the commit engine for the external REST router.
func (g *Gateway) Engine() *commit.Engine {
	return g.opts.Engine
}

func (g *Gateway) handleSign(c *fiber.Ctx) error {
	warehouseID := c.Params("warehouse")

	principal, err := g.authenticate(c)
	if err != nil {
		return g.respondError(c, err)
	}

	var req storageaccess.SignRequest
	if err := c.BodyParser(&req); err != nil {
		return g.respondError(c, errors.Wrap(errors.CommonInvalidInput, err, "sign request body is not valid JSON"))
	}

	resp, err := g.opts.Broker.SignS3Request(c.Context(), warehouseID, principal, req)
	if err != nil {
		return g.respondError(c, err)
	}

	g.recordEndpoint(c, "sign", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (g *Gateway) authenticate(c *fiber.Ctx) (authz.Principal, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return authz.Principal{}, errors.New(errors.CommonUnauthorized, "missing bearer credential")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	principal, err := g.opts.Principals.Resolve(c.Context(), token)
	if err != nil {
		return authz.Principal{}, errors.Wrap(errors.CommonUnauthorized, err, "bearer credential rejected")
	}
	return principal, nil
}

// respondError projects the error taxonomy onto HTTP. Signing-scope
// failures (including "no table owns this URI" and ambiguous-prefix
// resolutions) all collapse to Forbidden so the signer leaks nothing
// about the namespace.
func (g *Gateway) respondError(c *fiber.Ctx, err error) error {
	status := errors.HTTPStatus(err)
	switch errors.GetCode(err) {
	case storageaccess.ErrSigningScope.String(),
		storageaccess.ErrSigningDisabled.String(),
		catalogstore.ErrAmbiguousLocation.String():
		status = fiber.StatusForbidden
	case storageaccess.ErrBadSignRequest.String():
		status = fiber.StatusBadRequest
	}

	if status >= 500 {
		g.log.Error().Err(err).Int("status", status).Str("path", c.Path()).Msg("request failed")
	}
	g.recordEndpoint(c, "sign", status)
	return c.Status(status).JSON(errors.ToBody(err, g.opts.IncludeStack))
}

func (g *Gateway) recordEndpoint(c *fiber.Ctx, endpoint string, status int) {
	projectID := c.Get("X-Project-ID")
	if projectID == "" {
		projectID = "default"
	}
	if g.opts.Store == nil {
		return
	}
	if err := g.opts.Store.RecordEndpointCall(c.Context(), projectID, fmt.Sprintf("POST /v1/aws/s3/%s", endpoint), status); err != nil {
		g.log.Debug().Err(err).Msg("endpoint statistic not recorded")
	}
}
