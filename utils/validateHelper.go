package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the notary-specific rules:
//   - cpfcnpj: a CPF (11 digits) or CNPJ (14 digits) with valid check digits
//   - cpf / cnpj: only that kind
//   - brphone: a number libphonenumber accepts for region BR
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("cpfcnpj", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return IsValidCPF(v) || IsValidCNPJ(v)
		})
		_ = validate.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
			return IsValidCPF(fl.Field().String())
		})
		_ = validate.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
			return IsValidCNPJ(fl.Field().String())
		})
		_ = validate.RegisterValidation("brphone", func(fl validator.FieldLevel) bool {
			_, err := NormalizePhoneNumber(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ValidateStruct runs the tag rules and folds the first failure into a ValidationError.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		return NewValidationError(ve.Namespace(), fmt.Sprintf("failed on %q rule", ve.Tag()))
	}
	return NewValidationError("", err.Error())
}

// check if id exists, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return NewValidationError(column, "duplicate "+column)
	}
	return nil
}

// count records using WHERE $condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
