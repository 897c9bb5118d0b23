package telegram

import (
	"github.com/go-telegram/bot/models"
)

// WebAppKeyboard returns the button that opens the rewards web app
func WebAppKeyboard(url string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🚀 افتح التطبيق", WebApp: &models.WebAppInfo{URL: url}},
			},
		},
	}
}

// ChannelsKeyboard links every required channel, followed by the web app
func ChannelsKeyboard(urls, titles []string, webAppURL string) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for i, u := range urls {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "📢 " + titles[i], URL: u},
		})
	}
	rows = append(rows, WebAppKeyboard(webAppURL).InlineKeyboard...)
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
