package templates

import "github.com/auratek/contxt-bridge/internal/domain"

// Defaults holds the seed text for every template key. The botctl
// seed-templates command writes these into the response_templates table;
// operators edit them there afterwards.
var Defaults = map[string]string{
	domain.TplWelcomeStatus: `Hi {{ first_name | default: "User" }},

Welcome to the service. Your account is set up and ready.
You can reach your contacts by emailing any of these addresses:
{{ bot_accounts }}

To text a number, put the 10-digit number in the subject.
To manage contacts, use Add Contact / Update Contact / Remove Contact / Contact List subjects.`,

	domain.TplSignupInstructions: `Hi {{ first_name | default: "User" }},

To text a number directly, send an email with the 10-digit number as the subject.
To manage your contacts, use one of these subjects:
  Add Contact Number <name> <number>
  Add Contact Email <name> <email>
  Update Contact Number <name> <number>
  Update Contact Email <name> <email>
  Remove Contact <name>
  Contact List

The body of your email becomes the text message.`,

	domain.TplInstructionalError: `Hi {{ first_name | default: "User" }},

We could not understand your last message{{ detail }}.

To text a number, put the 10-digit number in the subject.
To manage contacts, use Add Contact / Update Contact / Remove Contact / Contact List subjects.

Status of your recent text messages:
{{ previous_text_messages_status }}`,

	domain.TplFamilyContactUpdate: `Hi {{ first_name | default: "User" }},

Your contact update has been processed.
New contacts: {{ new_contacts }}
Failed: {{ failed_contacts }}

Your current contacts:
{{ existing_contacts }}`,

	domain.TplMessageSentConfirmation: `Hi {{ first_name | default: "User" }},

Your text message was delivered.`,

	domain.TplContactNotFound: `Hi {{ first_name | default: "User" }},

We could not find a contact with that name{{ detail }}.

Your current contacts:
{{ existing_contacts }}`,

	domain.TplContactList: `Hi {{ first_name | default: "User" }},

Your current contacts:
{{ existing_contacts }}`,

	domain.TplTextNotSentError: `Hi {{ first_name | default: "User" }},

We were unable to deliver your text message. Please try again later or
contact support if the problem persists.

Status of your recent text messages:
{{ previous_text_messages_status }}`,

	domain.TplScreennameConfirmation: `Hi {{ first_name | default: "User" }},

Your screen name has been updated.`,

	domain.TplScreennameError: `Hi {{ first_name | default: "User" }},

We could not update your screen name{{ detail }}. Screen names must be a
single word without spaces.`,

	domain.TplListPenpalUsers: `Hi {{ first_name | default: "User" }},

These accounts are available for correspondence:
{{ bot_accounts }}`,

	domain.TplFamilyTextToCL: `Message from {{ command }}:

{{ detail }}`,
}
