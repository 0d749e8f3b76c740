package model

// Listing 列表页上抽取到的一条商品记录，是数据源与入库流程之间的契约。
//
// Price 为页面原文：Obfuscated=true 时是混淆字体字符，需要解码；否则是明文价格。
type Listing struct {
	ExternalID string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	ImageURL   string `json:"image_url"`
	Price      string `json:"price"`
	Obfuscated bool   `json:"obfuscated"`
	Pending    bool   `json:"pending"` // 待发布，价格隐藏
	ShopName   string `json:"shop_name,omitempty"`
	ShopURL    string `json:"shop_url,omitempty"`
}
