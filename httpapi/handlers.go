package httpapi

import (
	"encoding/base64"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	opaqueauth "github.com/tomvardasca/opaque-authd"
)

const (
	msgInvalidUsername = "Invalid username, please only use letters, numbers, underscores, dashes, and periods. Usernames must be between 3 and 15 characters long."
	msgInvalidMail     = "Invalid email address, please enter a valid email address."
	msgInvalidRequest  = "Invalid request payload."
)

// validationErrors is the 400 body for field-level failures.
type validationErrors struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

type registrationPayload struct {
	Username string `json:"username"`
	Mail     string `json:"mail"`
	Request  string `json:"request"`
}

func (p registrationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required.Error(msgInvalidUsername), validation.By(usernameRule)),
		validation.Field(&p.Mail, validation.Required.Error(msgInvalidMail), validation.Length(5, 100).Error(msgInvalidMail), is.Email.Error(msgInvalidMail)),
		validation.Field(&p.Request, validation.Required.Error(msgInvalidRequest), validation.By(requestRule)),
	)
}

type loginPayload struct {
	Username string `json:"username"`
	Request  string `json:"request"`
}

func (p loginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required.Error(msgInvalidUsername), validation.By(usernameRule)),
		validation.Field(&p.Request, validation.Required.Error(msgInvalidRequest), validation.By(requestRule)),
	)
}

func usernameRule(value interface{}) error {
	s, _ := value.(string)
	if !opaqueauth.ValidUsername(s) {
		return errors.New(msgInvalidUsername)
	}
	return nil
}

// requestRule accepts standard base64 whose decoded payload clears the
// protocol message bounds.
func requestRule(value interface{}) error {
	s, _ := value.(string)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !opaqueauth.ValidClientMessage(raw) {
		return errors.New(msgInvalidRequest)
	}
	return nil
}

func (s *Server) registerStart(c *fiber.Ctx) error {
	var p registrationPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}
	if err := p.Validate(); err != nil {
		return fieldErrors(c, err)
	}

	msg, _ := base64.StdEncoding.DecodeString(p.Request)
	response, err := s.engine.RegisterStart(c.UserContext(), p.Username, p.Mail, msg)
	if err != nil {
		return flowError(c, "registration", err)
	}
	return c.SendString(base64.StdEncoding.EncodeToString(response))
}

func (s *Server) registerFinish(c *fiber.Ctx) error {
	var p registrationPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}
	if err := p.Validate(); err != nil {
		return fieldErrors(c, err)
	}

	msg, _ := base64.StdEncoding.DecodeString(p.Request)
	if err := s.engine.RegisterFinish(c.UserContext(), p.Username, p.Mail, msg); err != nil {
		return flowError(c, "registration", err)
	}
	return c.SendString("")
}

func (s *Server) confirmMail(c *fiber.Ctx) error {
	username := c.Params("username")
	token := c.Query("k")

	err := s.engine.ConfirmEmail(c.UserContext(), username, token)
	switch {
	case err == nil:
		return c.SendString("")
	case errors.Is(err, opaqueauth.ErrAlreadyVerified):
		// Soft outcome: the link was simply clicked twice.
		return c.Status(fiber.StatusOK).SendString("Email already verified")
	default:
		return flowError(c, "registration", err)
	}
}

func (s *Server) loginStart(c *fiber.Ctx) error {
	var p loginPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}
	if err := p.Validate(); err != nil {
		return fieldErrors(c, err)
	}

	msg, _ := base64.StdEncoding.DecodeString(p.Request)
	response, err := s.engine.LoginStart(c.UserContext(), p.Username, msg)
	if err != nil {
		return flowError(c, "login", err)
	}
	return c.SendString(base64.StdEncoding.EncodeToString(response))
}

func (s *Server) loginFinish(c *fiber.Ctx) error {
	var p loginPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}
	if err := p.Validate(); err != nil {
		return fieldErrors(c, err)
	}

	msg, _ := base64.StdEncoding.DecodeString(p.Request)
	sessionKey, err := s.engine.LoginFinish(c.UserContext(), p.Username, msg)
	if err != nil {
		return flowError(c, "login", err)
	}
	return c.SendString(base64.StdEncoding.EncodeToString(sessionKey))
}

func fieldErrors(c *fiber.Ctx, err error) error {
	body := validationErrors{
		Message: "Some field(s) have invalid data",
		Fields:  map[string]string{},
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, ferr := range fields {
			body.Fields[name] = ferr.Error()
		}
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// flowError maps engine sentinels onto wire statuses and bodies. Everything
// the client can correct is a 400; the lifecycle gates keep their dedicated
// statuses so clients can branch on them.
func flowError(c *fiber.Ctx, flow string, err error) error {
	switch {
	case errors.Is(err, opaqueauth.ErrAlreadyRegistered):
		return c.Status(fiber.StatusBadRequest).SendString("User already registered")
	case errors.Is(err, opaqueauth.ErrRegistrationPending):
		return c.Status(fiber.StatusBadRequest).SendString("User already registered, missing confirming email")
	case errors.Is(err, opaqueauth.ErrThrottled):
		return c.Status(fiber.StatusBadRequest).SendString("Too many " + flow + " retries")
	case errors.Is(err, opaqueauth.ErrNoHandshakeState):
		return c.Status(fiber.StatusBadRequest).SendString("No " + flow + " state")
	case errors.Is(err, opaqueauth.ErrUnknownAccount):
		return c.Status(fiber.StatusBadRequest).SendString("Username does not exist")
	case errors.Is(err, opaqueauth.ErrEmailUnverified):
		return c.Status(fiber.StatusForbidden).SendString("Email not verified")
	case errors.Is(err, opaqueauth.ErrAccountLocked):
		return c.Status(fiber.StatusUnauthorized).SendString("Account locked")
	case errors.Is(err, opaqueauth.ErrValidation),
		errors.Is(err, opaqueauth.ErrTokenMismatch),
		errors.Is(err, opaqueauth.ErrEngineFailure):
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	default:
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}
}
