// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/models"
)

// NotificationService sends the transactional emails around bidding
// and ordering. Every send happens after the triggering transaction
// has committed; a failed send is logged and never surfaced to the
// request that caused it.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
	}
}

// SendOutbidNotification tells the previous highest bidder they lost
// the lead.
func (s *NotificationService) SendOutbidNotification(lotID, userID uuid.UUID, newAmount decimal.Decimal) {
	user, lot, err := s.loadUserAndLot(userID, lotID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Skipping outbid notification")
		return
	}

	data := map[string]interface{}{
		"Username":    user.Username,
		"ProductName": lot.Name,
		"NewAmount":   newAmount.StringFixed(2),
	}

	s.deliver(user.Email, "outbid", fmt.Sprintf("You have been outbid on %s", lot.Name), data)
}

// SendAuctionWonNotification congratulates the winning bidder.
func (s *NotificationService) SendAuctionWonNotification(lotID, userID uuid.UUID, amount decimal.Decimal) {
	user, lot, err := s.loadUserAndLot(userID, lotID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Skipping auction-won notification")
		return
	}

	data := map[string]interface{}{
		"Username":    user.Username,
		"ProductName": lot.Name,
		"Amount":      amount.StringFixed(2),
	}

	s.deliver(user.Email, "auction_won", fmt.Sprintf("You won the auction for %s", lot.Name), data)
}

// SendOrderConfirmation confirms a freshly placed order to its buyer.
func (s *NotificationService) SendOrderConfirmation(orderID, buyerID uuid.UUID) {
	var buyer models.User
	if err := s.db.First(&buyer, "id = ?", buyerID).Error; err != nil {
		logrus.WithError(err).WithField("buyer_id", buyerID).Warn("Skipping order confirmation")
		return
	}

	var order models.Order
	if err := s.db.First(&order, "id = ?", orderID).Error; err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Warn("Skipping order confirmation")
		return
	}

	data := map[string]interface{}{
		"Username":    buyer.Username,
		"OrderNumber": order.ReferenceNumber(),
		"Total":       order.TotalPrice.StringFixed(2),
	}

	s.deliver(buyer.Email, "order_confirmation", "Order confirmed "+order.ReferenceNumber(), data)
}

// SendNewOrderNotice tells a seller one of their products was ordered.
func (s *NotificationService) SendNewOrderNotice(orderID, sellerID uuid.UUID) {
	var seller models.User
	if err := s.db.First(&seller, "id = ?", sellerID).Error; err != nil {
		logrus.WithError(err).WithField("seller_id", sellerID).Warn("Skipping new-order notice")
		return
	}

	var order models.Order
	if err := s.db.First(&order, "id = ?", orderID).Error; err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Warn("Skipping new-order notice")
		return
	}

	data := map[string]interface{}{
		"Username":    seller.Username,
		"OrderNumber": order.ReferenceNumber(),
	}

	s.deliver(seller.Email, "new_order", "New order "+order.ReferenceNumber(), data)
}

func (s *NotificationService) loadUserAndLot(userID, lotID uuid.UUID) (*models.User, *models.Product, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to load user")
	}

	var lot models.Product
	if err := s.db.First(&lot, "id = ?", lotID).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to load lot")
	}

	return &user, &lot, nil
}

func (s *NotificationService) deliver(to, templateType, subject string, data map[string]interface{}) {
	tmpl := s.getEmailTemplate(templateType)

	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		logrus.WithError(err).WithField("template", templateType).Error("Failed to render email template")
		return
	}

	if err := s.sendEmail(to, subject, body); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"to":       to,
			"template": templateType,
		}).Error("Failed to send email")
	}
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		logrus.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).Debug("Email not configured, skipping send")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"outbid": {
			Subject: "You have been outbid",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Hello {{.Username}},</h2>
	<p>Someone placed a higher bid of {{.NewAmount}} on "{{.ProductName}}".</p>
	<p>Place a new bid before the auction closes to stay in the running.</p>
	<p>Best regards,<br>BidMarket Team</p>
</body>
</html>`,
		},
		"auction_won": {
			Subject: "You won the auction",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Congratulations {{.Username}}!</h2>
	<p>You won the auction for "{{.ProductName}}" at {{.Amount}}.</p>
	<p>Complete your order to claim the item.</p>
	<p>Best regards,<br>BidMarket Team</p>
</body>
</html>`,
		},
		"order_confirmation": {
			Subject: "Order confirmed",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Thank you {{.Username}}!</h2>
	<p>Your order {{.OrderNumber}} for a total of {{.Total}} has been placed.</p>
	<p>We will let you know when it ships.</p>
	<p>Best regards,<br>BidMarket Team</p>
</body>
</html>`,
		},
		"new_order": {
			Subject: "New order received",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Hello {{.Username}},</h2>
	<p>You received a new order {{.OrderNumber}}.</p>
	<p>Ship it from your seller dashboard.</p>
	<p>Best regards,<br>BidMarket Team</p>
</body>
</html>`,
		},
	}

	if tmpl, exists := templates[templateType]; exists {
		return tmpl
	}
	return EmailTemplate{Subject: "Notification", Body: "<p>{{.Username}}</p>"}
}
