package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/repositories"
)

// ErrInvalidAddress signals a delivery address missing a required field.
var ErrInvalidAddress = errors.New("order: invalid address")

// AddressInput is the submitted delivery address.
type AddressInput struct {
	FullName      string
	Phone         string
	StreetAddress string
	City          string
	State         string
	Pincode       string
}

// CustomerInput is the submitted contact block.
type CustomerInput struct {
	Name  string
	Email string
	Phone string
}

// ContactInput groups everything the normalizer reads for one order.
type ContactInput struct {
	Address  AddressInput
	Customer CustomerInput
	UserID   string
}

// NormalizedContact is the canonical snapshot copied onto an order.
type NormalizedContact struct {
	Address  domain.Address
	Customer domain.Customer
	UserRef  *string
}

type addressRules struct {
	FullName      string `validate:"required"`
	Phone         string `validate:"required"`
	StreetAddress string `validate:"required"`
}

// CustomerNormalizer merges submitted address and contact fields with the linked account.
type CustomerNormalizer struct {
	users    UserDirectory
	validate *validator.Validate
}

func NewCustomerNormalizer(users UserDirectory) *CustomerNormalizer {
	return &CustomerNormalizer{users: users, validate: validator.New()}
}

// Normalize performs at most one account read. An unknown account is treated as a guest.
func (n *CustomerNormalizer) Normalize(ctx context.Context, in ContactInput) (NormalizedContact, error) {
	var account *domain.Account
	userID := strings.TrimSpace(in.UserID)
	if userID != "" && n.users != nil {
		found, err := n.users.FindByID(ctx, userID)
		switch {
		case err == nil:
			account = &found
		case isRepoNotFound(err):
		default:
			return NormalizedContact{}, fmt.Errorf("order: load account: %w", err)
		}
	}

	submittedName := sanitizeText(in.Customer.Name)
	submittedPhone := strings.TrimSpace(in.Customer.Phone)

	address := domain.Address{
		FullName:      firstNonEmpty(sanitizeText(in.Address.FullName), submittedName),
		Phone:         firstNonEmpty(strings.TrimSpace(in.Address.Phone), submittedPhone),
		StreetAddress: sanitizeText(in.Address.StreetAddress),
		City:          sanitizeText(in.Address.City),
		State:         sanitizeText(in.Address.State),
		Pincode:       strings.TrimSpace(in.Address.Pincode),
	}
	if err := n.validate.Struct(addressRules{
		FullName:      address.FullName,
		Phone:         address.Phone,
		StreetAddress: address.StreetAddress,
	}); err != nil {
		return NormalizedContact{}, fmt.Errorf("%w: %s", ErrInvalidAddress, missingFields(err))
	}

	var accountName, accountEmail string
	if account != nil {
		accountName = strings.TrimSpace(account.Name)
		accountEmail = account.Email
	}
	customer := domain.Customer{
		Name:  firstNonEmpty(submittedName, accountName, address.FullName),
		Email: normalizeEmail(firstNonEmpty(strings.TrimSpace(in.Customer.Email), strings.TrimSpace(accountEmail))),
		Phone: firstNonEmpty(submittedPhone, address.Phone),
	}

	out := NormalizedContact{Address: address, Customer: customer}
	if account != nil {
		ref := account.ID
		if ref == "" {
			ref = userID
		}
		out.UserRef = &ref
	}
	return out, nil
}

func missingFields(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, lowerFirst(fe.Field()))
	}
	return strings.Join(names, ", ") + " required"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
