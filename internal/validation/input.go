package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxDealTitleLength          = 200
	MaxDealDescriptionLength    = 5000
	MaxMediaFiles               = 10
	MaxMediaLinkLength          = 500
	MaxDisputeDescriptionLength = 5000
	MaxCommentLength            = 1000
	MaxReasonLength             = 500
	MinWalletAddressLength      = 4
	MaxWalletAddressLength      = 128
)

var walletAddressRegex = regexp.MustCompile(`^[A-Za-z0-9:_.\-]+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateDealTitle проверяет название сделки.
func ValidateDealTitle(title string) error {
	title = strings.TrimSpace(title)
	if err := ValidateNonEmpty("название сделки", title); err != nil {
		return err
	}
	return ValidateLength("название сделки", title, 0, MaxDealTitleLength)
}

// ValidateDealDescription описание необязательно.
func ValidateDealDescription(description string) error {
	return ValidateLength("описание сделки", strings.TrimSpace(description), 0, MaxDealDescriptionLength)
}

// ValidateMediaFiles ссылки на медиафайлы сделки.
func ValidateMediaFiles(links []string) error {
	if len(links) > MaxMediaFiles {
		return fmt.Errorf("не более %d медиафайлов", MaxMediaFiles)
	}
	for _, link := range links {
		if err := validateLink(strings.TrimSpace(link)); err != nil {
			return err
		}
	}
	return nil
}

func validateLink(link string) error {
	if err := ValidateLength("ссылка", link, 1, MaxMediaLinkLength); err != nil {
		return err
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("некорректный формат URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("ссылка должна начинаться с http:// или https://")
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("ссылка должна содержать доменное имя")
	}
	return nil
}

// ValidateDisputeDescription проверяет описание спора.
func ValidateDisputeDescription(description string) error {
	return ValidateLength("описание спора", strings.TrimSpace(description), 0, MaxDisputeDescriptionLength)
}

// ValidateComment комментарий к оценке.
func ValidateComment(comment *string) error {
	if comment == nil {
		return nil
	}
	return ValidateLength("комментарий", strings.TrimSpace(*comment), 0, MaxCommentLength)
}

// ValidateReason причина блокировки или её снятия.
func ValidateReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if err := ValidateNonEmpty("причина", reason); err != nil {
		return err
	}
	return ValidateLength("причина", reason, 0, MaxReasonLength)
}

// ValidateWalletAddress адрес кошелька для выплаты. Формат сети проверяет шлюз.
func ValidateWalletAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("адрес кошелька обязателен")
	}
	if err := ValidateLength("адрес кошелька", address, MinWalletAddressLength, MaxWalletAddressLength); err != nil {
		return err
	}
	if !walletAddressRegex.MatchString(address) {
		return fmt.Errorf("адрес кошелька содержит недопустимые символы")
	}
	return nil
}
