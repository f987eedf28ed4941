package services

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var notifyPrinter = message.NewPrinter(language.English)

// prizeMessage is the player-facing text attached to prize_awarded events.
func prizeMessage(tournamentName string, grantRank int, coins, gems int64) string {
	if gems > 0 {
		return notifyPrinter.Sprintf("You placed #%d in %s and won %d coins and %d gems!", grantRank, tournamentName, coins, gems)
	}
	return notifyPrinter.Sprintf("You placed #%d in %s and won %d coins!", grantRank, tournamentName, coins)
}
