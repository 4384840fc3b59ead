package model

// RawStatus 远程状态接口返回的原始 JSON 对象，字段解析只在规范化层进行
type RawStatus map[string]any
