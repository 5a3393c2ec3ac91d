package main

type interest struct {
	Name     string
	Category string
}

var interestCatalogue = []interest{
	{"Hiking", "sports"}, {"Yoga", "fitness"}, {"Cooking", "food"}, {"Photography", "arts"},
	{"Travel", "lifestyle"}, {"Reading", "hobbies"}, {"Music", "entertainment"},
	{"Dancing", "entertainment"}, {"Gaming", "hobbies"}, {"Fitness", "sports"}, {"Art", "arts"},
	{"Movies", "entertainment"}, {"Coffee", "food"}, {"Wine", "food"}, {"Dogs", "pets"},
	{"Cats", "pets"}, {"Running", "sports"}, {"Cycling", "sports"}, {"Meditation", "wellness"},
	{"Beach", "lifestyle"},
}

// Predefined accounts for manual testing. They like each other's profiles on paper.
var testUsers = []seededUser{
	{
		Email:      "user1@test.local",
		Name:       "Test User One",
		Gender:     "female",
		Age:        29,
		Bio:        "Weekend hiker and amateur photographer. Always hunting for the best coffee in town.",
		Occupation: "Designer",
		Location:   "San Francisco, CA",
		Lat:        37.7749,
		Lon:        -122.4194,
		Interests:  []string{"Hiking", "Photography", "Coffee", "Travel"},
		LookingFor: []string{"male", "female", "non_binary", "other"},
		MinAge:     18,
		MaxAge:     99,
	},
	{
		Email:      "user2@test.local",
		Name:       "Test User Two",
		Gender:     "male",
		Age:        31,
		Bio:        "Software engineer who escapes to the mountains. Coffee first, then hiking.",
		Occupation: "Software Engineer",
		Location:   "San Francisco, CA",
		Lat:        37.7790,
		Lon:        -122.4170,
		Interests:  []string{"Hiking", "Coffee", "Gaming", "Cycling"},
		LookingFor: []string{"male", "female", "non_binary", "other"},
		MinAge:     18,
		MaxAge:     99,
	},
}

var genders = []string{"male", "female", "non_binary"}

var lookingForOptions = [][]string{
	{"female"},
	{"male"},
	{"male", "female"},
	{"male", "female", "non_binary"},
}

var firstNames = []string{
	"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank",
	"Grace", "Henry", "Ivy", "Jack", "Kate", "Leo",
	"Mia", "Noah", "Olivia", "Peter", "Quinn", "Ruby",
}

var occupations = []string{
	"Software Engineer", "Designer", "Teacher", "Doctor",
	"Artist", "Entrepreneur", "Consultant", "Writer",
	"Marketing Manager", "Data Scientist",
}

var cities = []struct {
	Name     string
	Lat, Lon float64
}{
	{"San Francisco, CA", 37.7749, -122.4194},
	{"New York, NY", 40.7128, -74.0060},
	{"Los Angeles, CA", 34.0522, -118.2437},
	{"Chicago, IL", 41.8781, -87.6298},
	{"Austin, TX", 30.2672, -97.7431},
	{"Seattle, WA", 47.6062, -122.3321},
	{"Boston, MA", 42.3601, -71.0589},
	{"Denver, CO", 39.7392, -104.9903},
	{"Portland, OR", 45.5152, -122.6784},
	{"Miami, FL", 25.7617, -80.1918},
}

var bios = []string{
	"Love exploring new places and trying new foods. Always up for an adventure!",
	"Passionate about technology and innovation. Let's grab coffee and talk startups!",
	"Artist at heart, engineer by profession. Looking for someone to share experiences with.",
	"Fitness enthusiast and foodie. Balance is key!",
	"World traveler seeking a partner in crime for the next adventure.",
	"Music lover and coffee addict. Let's see where this goes!",
	"Outdoor enthusiast who loves hiking and camping. Nature is my therapy.",
	"Bookworm by day, Netflix binger by night. Looking for my reading buddy.",
	"Yoga instructor with a passion for wellness and mindfulness.",
	"Tech geek who loves gaming and building cool projects.",
}
