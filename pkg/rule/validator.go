// Package rule 提供结构体和字段验证功能的封装，基于 go-playground/validator 实现.
// 配置结构体使用 `rule:` 标签，请求体仍由 gin 的 `binding:` 标签校验，两者使用独立的引擎.
package rule

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/yeisme/syncvault/pkg/chunkplan"
)

var (
	inst *validator.Validate
	once sync.Once
)

// initValidator 新建 validator 并使用 rule 作为标签名.
func initValidator() {
	inst = validator.New(validator.WithRequiredStructEnabled())
	inst.SetTagName("rule")

	// sha256hex: 64 位十六进制，大小写均可，不接受 0x 前缀
	_ = inst.RegisterValidation("sha256hex", func(fl validator.FieldLevel) bool {
		return chunkplan.ValidFingerprint(fl.Field().String())
	})
}

// lazyInit 初始化全局 validator（幂等）.
func lazyInit() {
	once.Do(initValidator)
}

// Engine 返回全局 *validator.Validate，若未初始化则先初始化.
func Engine() *validator.Validate {
	lazyInit()

	return inst
}

// RegisterValidation 代理 RegisterValidation，确保已初始化.
func RegisterValidation(tag string, fn validator.Func, opts ...bool) error {
	lazyInit()

	return inst.RegisterValidation(tag, fn, opts...)
}

// ValidationErrors 是格式化后的验证错误字典，键为字段命名空间，值为失败的规则.
type ValidationErrors map[string]string

// Errors 将 ValidateStruct 返回的错误展开为 ValidationErrors，非校验错误返回 nil.
func Errors(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make(ValidationErrors, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}

		out[fe.Namespace()] = rule
	}

	return out
}

// ValidateStruct 对结构体执行完整校验，返回原始 error（可用 Errors 解析）.
func ValidateStruct(s any) error {
	lazyInit()

	return inst.Struct(s)
}

// ValidateVar 按规则对单个变量校验，例如: ValidateVar("abc", "required,email").
func ValidateVar(field any, tag string) error {
	lazyInit()

	return inst.Var(field, tag)
}

// RegisterAlias 包装 RegisterAlias，便于注册别名规则.
func RegisterAlias(alias, rules string) {
	lazyInit()

	inst.RegisterAlias(alias, rules)
}
