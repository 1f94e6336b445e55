package api

import (
	"reflect"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"mandi/models"
)

var registerValidationOnce sync.Once

// registerValidation 讓 gin 的驗證器看得懂 decimal 與品質等級
//   - decimal.Decimal 以浮點數參與 gt、gte 這類比較
//   - grade 規則只接受 A 到 D，空值交給 omitempty/required 處理
func registerValidation() {
	registerValidationOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})
		_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
			grade := models.QualityGrade(fl.Field().String())
			return grade == "" || grade.Valid()
		})
	})
}

func decimalValue(field reflect.Value) any {
	switch value := field.Interface().(type) {
	case decimal.Decimal:
		f, _ := value.Float64()
		return f
	case decimal.NullDecimal:
		if !value.Valid {
			return nil
		}
		f, _ := value.Decimal.Float64()
		return f
	}
	return nil
}
