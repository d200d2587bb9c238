package errors

import "errors"

// ── 跨模块错误分类 ──
// 逐个收件人/逐个单元的失败只记录日志，不中断批处理

var (
	// ErrNotFound 来源、模板、角色模型等不存在（调用方按“跳过”处理）
	ErrNotFound = errors.New("记录不存在")
	// ErrAlreadyExists 唯一约束冲突，并发创建的失败方按“已存在”处理
	ErrAlreadyExists = errors.New("记录已存在")
	// ErrTemplateMissing 来源 + 渠道没有配置模板
	ErrTemplateMissing = errors.New("通知模板不存在")
	// ErrRender 模板渲染失败
	ErrRender = errors.New("通知模板渲染失败")
	// ErrSend 发送失败
	ErrSend = errors.New("通知发送失败")
	// ErrPermissionDenied 字段级读写被拒绝
	ErrPermissionDenied = errors.New("无权访问该字段")
	// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
	ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")
)

// FieldDeniedError 携带被拒绝的字段名，errors.Is 可匹配 ErrPermissionDenied
type FieldDeniedError struct {
	Model  string
	Fields []string
}

func (e *FieldDeniedError) Error() string {
	return ErrPermissionDenied.Error()
}

// Is 使 errors.Is(err, ErrPermissionDenied) 成立
func (e *FieldDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
